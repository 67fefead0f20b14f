// analyzersim is a local stand-in for the analyzer backend. It accepts
// submissions, walks each one through queued, processing and done, and
// publishes a snapshot to redis on every change, the way the real backend
// does. A publish endpoint hands out fake share links.
// Usage: go run ./cmd/analyzersim
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/watch"
)

const (
	defaultAddr     = ":9090"
	defaultRedisURL = "redis://localhost:6379/0"
	stepDelay       = 500 * time.Millisecond
)

type simulator struct {
	client *redis.Client
	logger *slog.Logger
}

func main() {
	addr := defaultAddr
	if v := os.Getenv("VIGIA_SIM_LISTEN_ADDR"); v != "" {
		addr = v
	}
	redisURL := defaultRedisURL
	if v := os.Getenv("VIGIA_REDIS_URL"); v != "" {
		redisURL = v
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}

	sim := &simulator{
		client: redis.NewClient(opts),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", sim.handleAnalyze)
	mux.HandleFunc("POST /publish", sim.handlePublish)

	sim.logger.Info("analyzersim listening", "addr", addr, "redis", redisURL)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func (s *simulator) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	jobID := r.FormValue("analysisId")
	if jobID == "" {
		http.Error(w, "analysisId is required", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file part is required", http.StatusBadRequest)
		return
	}
	file.Close()

	s.logger.Info("accepted submission", "job_id", jobID, "file", header.Filename)
	go s.runJob(jobID, header.Filename)

	w.WriteHeader(http.StatusAccepted)
}

// runJob publishes the queued, processing and done snapshots with a small
// delay between steps. The score is derived from the file name so reruns are
// reproducible and both sides of the publish threshold are reachable.
func (s *simulator) runJob(jobID, fileName string) {
	ctx := context.Background()

	s.publishSnapshot(ctx, jobID, model.Snapshot{Status: model.StatusQueued})
	time.Sleep(stepDelay)
	s.publishSnapshot(ctx, jobID, model.Snapshot{Status: model.StatusProcessing})
	time.Sleep(stepDelay)

	h := fnv.New32a()
	h.Write([]byte(fileName))
	score := float64(h.Sum32() % 20)

	s.publishSnapshot(ctx, jobID, model.Snapshot{
		Status: model.StatusDone,
		Result: &model.Result{
			Score:   score,
			Summary: fmt.Sprintf("simulated analysis of %s", fileName),
			Findings: []model.Finding{
				{RuleID: "sim-contrast", OK: score >= 5, Note: "contrast check"},
				{RuleID: "sim-audio", OK: score >= 10, Note: "audio level check"},
			},
			Suggestions: []string{"simulated suggestion"},
		},
	})
}

func (s *simulator) publishSnapshot(ctx context.Context, jobID string, snap model.Snapshot) {
	snap.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("marshal snapshot", "job_id", jobID, "error", err)
		return
	}
	channel := watch.DefaultChannelPrefix + jobID
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		s.logger.Error("publish snapshot", "job_id", jobID, "error", err)
		return
	}
	s.logger.Info("published snapshot", "job_id", jobID, "status", snap.Status)
}

type publishRequest struct {
	AnalysisID string `json:"analysisId"`
}

type publishResponse struct {
	TargetLink string `json:"targetLink"`
}

func (s *simulator) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AnalysisID == "" {
		http.Error(w, "analysisId is required", http.StatusBadRequest)
		return
	}

	s.logger.Info("published analysis", "job_id", req.AnalysisID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(publishResponse{
		TargetLink: "https://media.example.com/a/" + req.AnalysisID,
	})
}
