// Standalone mock image server for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/imgpreload run -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// gif is a 1x1 transparent GIF.
var gif = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func main() {
	fmt.Println("Mock image server starting on :9999")
	fmt.Println("Paths with \"slow\" take 3s, paths with \"broken\" return 500")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		hits = make(map[string]int)
		mu   sync.Mutex
	)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		n := hits[r.URL.Path]
		mu.Unlock()

		if strings.Contains(r.URL.Path, "slow") {
			select {
			case <-time.After(3 * time.Second):
			case <-r.Context().Done():
				slog.Info("request abandoned", "path", r.URL.Path)
				return
			}
		}
		if strings.Contains(r.URL.Path, "broken") {
			http.Error(w, "broken image", http.StatusInternalServerError)
			return
		}

		slog.Info("image served",
			"path", r.URL.Path,
			"hits", n,
			"credentialed", r.Header.Get("Authorization") != "",
		)
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write(gif)
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
