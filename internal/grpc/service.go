package grpc

import (
	"context"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"google.golang.org/grpc"
)

const (
	serviceName = "market.v1.MarketData"

	getTickerMethod    = "/" + serviceName + "/GetTicker"
	getOhlcvMethod     = "/" + serviceName + "/GetOhlcv"
	streamTickerMethod = "/" + serviceName + "/StreamTicker"
)

// TickerRequest asks for the current ticker of Symbol
type TickerRequest struct {
	Symbol string `json:"symbol"`
}

// OhlcvRequest asks for candles; empty Timeframe and zero Limit take the REST defaults
type OhlcvRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// StreamTickerRequest subscribes to periodic tickers for Symbol
type StreamTickerRequest struct {
	Symbol string `json:"symbol"`
}

// MarketDataServer is the server API for the market.v1.MarketData service
type MarketDataServer interface {
	GetTicker(context.Context, *TickerRequest) (*market.Ticker, error)
	GetOhlcv(context.Context, *OhlcvRequest) (*market.OhlcvSeries, error)
	StreamTicker(*StreamTickerRequest, TickerStreamServer) error
}

// TickerStreamServer is the server side of StreamTicker
type TickerStreamServer interface {
	Send(*market.Ticker) error
	grpc.ServerStream
}

type tickerStreamServer struct {
	grpc.ServerStream
}

func (s *tickerStreamServer) Send(t *market.Ticker) error {
	return s.ServerStream.SendMsg(t)
}

// MarketDataServiceDesc describes the service for grpc.Server.RegisterService
var MarketDataServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTicker", Handler: getTickerHandler},
		{MethodName: "GetOhlcv", Handler: getOhlcvHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTicker", Handler: streamTickerHandler, ServerStreams: true},
	},
	Metadata: "market/v1/market_data",
}

// RegisterMarketDataServer registers srv on s
func RegisterMarketDataServer(s grpc.ServiceRegistrar, srv MarketDataServer) {
	s.RegisterService(&MarketDataServiceDesc, srv)
}

func getTickerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TickerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServer).GetTicker(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getTickerMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketDataServer).GetTicker(ctx, req.(*TickerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOhlcvHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OhlcvRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServer).GetOhlcv(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getOhlcvMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketDataServer).GetOhlcv(ctx, req.(*OhlcvRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamTickerHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(StreamTickerRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MarketDataServer).StreamTicker(in, &tickerStreamServer{stream})
}

// Client calls the MarketData service over a connection using the JSON codec
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

// GetTicker returns the current ticker for in.Symbol
func (c *Client) GetTicker(ctx context.Context, in *TickerRequest, opts ...grpc.CallOption) (*market.Ticker, error) {
	out := new(market.Ticker)
	if err := c.cc.Invoke(ctx, getTickerMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOhlcv returns candles for in.Symbol
func (c *Client) GetOhlcv(ctx context.Context, in *OhlcvRequest, opts ...grpc.CallOption) (*market.OhlcvSeries, error) {
	out := new(market.OhlcvSeries)
	if err := c.cc.Invoke(ctx, getOhlcvMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// TickerStreamClient receives tickers from StreamTicker
type TickerStreamClient interface {
	Recv() (*market.Ticker, error)
	grpc.ClientStream
}

type tickerStreamClient struct {
	grpc.ClientStream
}

func (s *tickerStreamClient) Recv() (*market.Ticker, error) {
	t := new(market.Ticker)
	if err := s.ClientStream.RecvMsg(t); err != nil {
		return nil, err
	}
	return t, nil
}

// StreamTicker opens a server stream of tickers for in.Symbol. Cancel ctx to stop it.
func (c *Client) StreamTicker(ctx context.Context, in *StreamTickerRequest, opts ...grpc.CallOption) (TickerStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &MarketDataServiceDesc.Streams[0], streamTickerMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &tickerStreamClient{stream}, nil
}
