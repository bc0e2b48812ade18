//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/vglm/addressology/internal/app"
	"github.com/vglm/addressology/internal/app/storage/postgres"
	"github.com/vglm/addressology/internal/platform/migrations"
)

// Full-stack test against Postgres: migrations, batch intake and the job
// ledger through the REST surface.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := postgres.New(db, nil)
	application := app.New(app.Options{Store: store}, nil)
	handler := NewHandler(application, nil)

	server := httptest.NewServer(handler)
	defer server.Close()
	client := server.Client()

	if resp, err := client.Get(server.URL + "/healthz"); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v", err)
	}

	// Create a job, submit a batch against it, confirm the ledger moved.
	jobBody, _ := json.Marshal(map[string]string{"cruncherVer": "1.0.0-it"})
	resp, err := client.Post(server.URL+"/jobs", "application/json", bytes.NewReader(jobBody))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create job status: %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"ID"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	resp.Body.Close()

	batchBody, _ := json.Marshal(map[string]any{
		"data": []map[string]string{
			{
				"salt":    "0x9a07547b2ac4220006e585000000000000000000000000000000000000000000",
				"factory": "0x9e3f8eae49250b1b1f1bfd668961fe905c1f3f1b",
			},
		},
		"extra": map[string]any{"jobId": created.ID, "reportedHashes": 1e6},
	})
	resp, err = client.Post(server.URL+"/candidates/batch", "application/json", bytes.NewReader(batchBody))
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = client.Get(server.URL + "/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	defer resp.Body.Close()
	var ledger struct {
		HashesReported float64 `json:"HashesReported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.HashesReported != 1e6 {
		t.Fatalf("ledger did not record reported hashes: %+v", ledger)
	}
}
