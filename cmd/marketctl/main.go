package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	marketgrpc "github.com/AyushMhaisane/mcp-crypto-server/internal/grpc"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// marketctl queries a running gateway over gRPC and prints the JSON replies
func main() {
	addr := flag.String("addr", "localhost:50051", "gateway gRPC address")
	symbol := flag.String("symbol", "BTC/USDT", "market symbol")
	timeframe := flag.String("timeframe", "", "OHLCV timeframe, enables the OHLCV call")
	limit := flag.Int("limit", 0, "OHLCV candle count")
	streamN := flag.Int("stream", 0, "receive this many streamed tickers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-call timeout")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logrus.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	client := marketgrpc.NewClient(conn)
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	start := time.Now()
	ticker, err := client.GetTicker(ctx, &marketgrpc.TickerRequest{Symbol: *symbol})
	cancel()
	if err != nil {
		logrus.Errorf("GetTicker failed: %v", err)
	} else {
		out.Encode(ticker)
		fmt.Fprintf(os.Stderr, "GetTicker took %v\n", time.Since(start))
	}

	if *timeframe != "" {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		series, err := client.GetOhlcv(ctx, &marketgrpc.OhlcvRequest{Symbol: *symbol, Timeframe: *timeframe, Limit: *limit})
		cancel()
		if err != nil {
			logrus.Errorf("GetOhlcv failed: %v", err)
		} else {
			out.Encode(series)
		}
	}

	if *streamN > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ts, err := client.StreamTicker(ctx, &marketgrpc.StreamTickerRequest{Symbol: *symbol})
		if err != nil {
			logrus.Fatalf("StreamTicker failed: %v", err)
		}
		for i := 0; i < *streamN; i++ {
			t, err := ts.Recv()
			if err != nil {
				logrus.Fatalf("Stream ended: %v", err)
			}
			out.Encode(t)
		}
	}
}
