package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// mockState tracks how often a single image was requested.
type mockState struct {
	hits int
}

// StartMockImageServer serves generated PNGs under /img/.
//
// Paths containing "slow" take 2-4 seconds, paths containing "broken" return
// 500 and paths containing "flaky" fail every other request. Everything else
// answers within 50-200ms. Call this in a goroutine before preloading.
func StartMockImageServer(addr string) {
	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
	)
	body := mockPNG()

	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/img/")

		mu.Lock()
		state, exists := states[name]
		if !exists {
			state = &mockState{}
			states[name] = state
		}
		state.hits++
		hits := state.hits
		mu.Unlock()

		// simulate small latency variance
		delay := time.Duration(50+rand.Intn(150)) * time.Millisecond
		if strings.Contains(name, "slow") {
			delay = time.Duration(2000+rand.Intn(2000)) * time.Millisecond
		}
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			slog.Info("request abandoned", "image", name)
			return
		}

		switch {
		case strings.Contains(name, "broken"):
			http.Error(w, "broken image", http.StatusInternalServerError)
			return
		case strings.Contains(name, "flaky") && hits%2 == 0:
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}

		slog.Info("image served",
			"image", name,
			"hits", hits,
			"credentialed", r.Header.Get("Authorization") != "",
		)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if _, err := w.Write(body); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

// mockPNG encodes a small solid-colour image.
func mockPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 0x33, G: 0x99, B: 0xcc, A: 0xff})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
