// Command inference_stub serves the inference and worker status endpoints
// loadcurve drives, backed by a fixed pool of simulated workers.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type workerStatus string

const (
	statusWorking      workerStatus = "Working"
	statusIdle         workerStatus = "Idle"
	statusShuttingDown workerStatus = "ShuttingDown"
)

type pool struct {
	mu      sync.Mutex
	workers map[string]workerStatus
	order   []string
	latency time.Duration
	jitter  time.Duration
}

// newPool starts size workers; the last draining of them report
// ShuttingDown and never take work.
func newPool(size, draining int, latency, jitter time.Duration) *pool {
	p := &pool{workers: make(map[string]workerStatus, size), latency: latency, jitter: jitter}
	for i := 0; i < size; i++ {
		pid := strconv.Itoa(4000 + i)
		p.workers[pid] = statusIdle
		if i >= size-draining {
			p.workers[pid] = statusShuttingDown
		}
		p.order = append(p.order, pid)
	}
	return p
}

func (p *pool) acquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pid := range p.order {
		if p.workers[pid] == statusIdle {
			p.workers[pid] = statusWorking
			return pid, true
		}
	}
	return "", false
}

func (p *pool) release(pid string) {
	p.mu.Lock()
	p.workers[pid] = statusIdle
	p.mu.Unlock()
}

func (p *pool) snapshot() map[string]workerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]workerStatus, len(p.workers))
	for pid, st := range p.workers {
		out[pid] = st
	}
	return out
}

func (p *pool) work() time.Duration {
	d := p.latency
	if p.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	time.Sleep(d)
	return d
}

type inferenceTask struct {
	Data struct {
		B64Image struct {
			Image string `json:"image"`
		} `json:"B64Image"`
	} `json:"data"`
	InferenceType json.RawMessage `json:"inference_type"`
}

type class struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type duration struct {
	Secs  int64 `json:"secs"`
	Nanos int64 `json:"nanos"`
}

func (p *pool) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var task inferenceTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, fmt.Sprintf("invalid task: %v", err), http.StatusBadRequest)
		return
	}

	pid, ok := p.acquire()
	if !ok {
		http.Error(w, "all workers are busy", http.StatusInternalServerError)
		return
	}
	spent := p.work()
	p.release(pid)

	var output any
	if string(task.InferenceType) == `"ImageToImage"` {
		output = map[string]string{"image": task.Data.B64Image.Image}
	} else {
		output = []class{{Label: "tabby", Score: 0.82}, {Label: "tiger cat", Score: 0.11}, {Label: "Egyptian cat", Score: 0.04}}
	}
	respondJSON(w, http.StatusOK, []any{output, duration{Secs: int64(spent / time.Second), Nanos: int64(spent % time.Second)}})
}

func (p *pool) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, p.snapshot())
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func main() {
	port := flag.Int("port", 9000, "Listening port")
	workers := flag.Int("workers", 4, "Number of simulated workers")
	latency := flag.Duration("latency", 120*time.Millisecond, "Simulated inference time")
	jitter := flag.Duration("jitter", 40*time.Millisecond, "Random extra inference time")
	draining := flag.Int("shutting-down", 0, "Workers that report ShuttingDown")
	flag.Parse()

	if *workers < 1 {
		log.Fatalf("workers must be >= 1")
	}

	p := newPool(*workers, *draining, *latency, *jitter)
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", p.handleInference)
	mux.HandleFunc("/workers/status", p.handleStatus)
	mux.HandleFunc("/workers/_status", p.handleStatus)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("inference stub listening on %s with %d workers", addr, *workers)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(srv.ListenAndServe())
}
