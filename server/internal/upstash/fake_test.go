package upstash

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeUpstash 模拟 Upstash REST：命令接口 + /subscribe SSE。
type fakeUpstash struct {
	t     *testing.T
	token string

	mu   sync.Mutex
	kv   map[string]string
	subs map[string][]chan string
}

func newFakeUpstash(t *testing.T) (*fakeUpstash, *httptest.Server) {
	f := &fakeUpstash{t: t, token: "tok", kv: map[string]string{}, subs: map[string][]chan string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeUpstash) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
		return
	}
	if strings.HasPrefix(r.URL.Path, "/subscribe/") {
		f.serveSubscribe(w, r, strings.TrimPrefix(r.URL.Path, "/subscribe/"))
		return
	}

	var args []string
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad command"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var result any
	switch strings.ToUpper(args[0]) {
	case "GET":
		if v, ok := f.kv[args[1]]; ok {
			result = v
		}
	case "SET":
		_, exists := f.kv[args[1]]
		if len(args) > 3 && strings.ToUpper(args[3]) == "NX" && exists {
			result = nil
		} else {
			f.kv[args[1]] = args[2]
			result = "OK"
		}
	case "PUBLISH":
		for _, ch := range f.subs[args[1]] {
			ch <- args[2]
		}
		result = len(f.subs[args[1]])
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "ERR unknown command"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func (f *fakeUpstash) serveSubscribe(w http.ResponseWriter, r *http.Request, channel string) {
	ch := make(chan string, 8)
	f.mu.Lock()
	f.subs[channel] = append(f.subs[channel], ch)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "data: subscribe,%s,1\n\n", channel)
	w.(http.Flusher).Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: message,%s,%s\n\n", channel, msg)
			w.(http.Flusher).Flush()
		}
	}
}

// dropSubscribers 关闭所有订阅流，模拟上游断开。
func (f *fakeUpstash) dropSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, list := range f.subs {
		for _, ch := range list {
			close(ch)
		}
		delete(f.subs, k)
	}
}

func (f *fakeUpstash) subscriberCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channel])
}
