package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"go-notify/internal/auth"
	"go-notify/internal/model"
)

var (
	baseURL   = flag.String("url", "http://localhost:6687", "notify server base url")
	keyPath   = flag.String("key", "fixtures/encoding.pem", "Ed25519 private key (PKCS#8 PEM) used to sign tokens")
	userCount = flag.Int("users", 500, "number of concurrent streams") // ⚠️ Start small; each stream holds a connection.
	duration  = flag.Duration("duration", 30*time.Second, "how long to keep streams open")
)

type counters struct {
	opened     atomic.Int64
	events     atomic.Int64
	keepAlives atomic.Int64
	failed     atomic.Int64
}

func main() {
	flag.Parse()
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	pem, err := os.ReadFile(*keyPath)
	if err != nil {
		log.Fatal("❌ read key", zap.Error(err))
	}
	signer, err := auth.NewSigner(string(pem))
	if err != nil {
		log.Fatal("❌ load key", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	log.Info("🔥 STARTING STREAM TEST", zap.Int("users", *userCount), zap.Duration("duration", *duration))
	var (
		wg sync.WaitGroup
		c  counters
	)
	for i := 1; i <= *userCount; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if err := stream(ctx, signer, userID, &c); err != nil {
				c.failed.Add(1)
				log.Warn("❌ stream failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}(int64(i))
	}

	wg.Wait()
	log.Info("✅ LOAD TEST COMPLETE",
		zap.Int64("opened", c.opened.Load()),
		zap.Int64("events", c.events.Load()),
		zap.Int64("keep_alives", c.keepAlives.Load()),
		zap.Int64("failed", c.failed.Load()),
	)
}

func stream(ctx context.Context, signer *auth.Signer, userID int64, c *counters) error {
	token, err := signer.Sign(model.User{
		ID:       userID,
		WsID:     1,
		Fullname: fmt.Sprintf("load user %d", userID),
		Email:    fmt.Sprintf("u_%d@load.test", userID),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	c.opened.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			c.events.Add(1)
		case strings.HasPrefix(line, ":"):
			c.keepAlives.Add(1)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
