package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"chatrelay/internal/engine/worker"
)

type HealthHandler struct {
	db     *sql.DB
	worker *worker.Worker
}

func NewHealthHandler(db *sql.DB, wrk *worker.Worker) *HealthHandler {
	return &HealthHandler{db: db, worker: wrk}
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "chatrelay",
		"status":  "running",
	})
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.db.Ping(); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
	} else {
		checks["database"] = "healthy"
	}

	if h.worker.Running() {
		checks["worker"] = "healthy"
	} else {
		checks["worker"] = "unhealthy: not running"
	}

	status := "healthy"
	for _, check := range checks {
		if len(check) >= 9 && check[:9] == "unhealthy" {
			status = "degraded"
			break
		}
	}

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
	}{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
