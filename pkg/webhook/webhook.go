// Package webhook fires a completion notification to an operator-provided
// URL after a program is documented (§4.8). Delivery is at-least-once with
// silent drop on failure: both non-2xx responses and transport errors are
// returned to the caller, which is expected to log and swallow them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soldocs/soldocs/pkg/model"
)

const requestTimeout = 10 * time.Second

const overviewExcerptChars = 500

type payload struct {
	Event         string     `json:"event"`
	ProgramID     string     `json:"programId"`
	Name          string     `json:"name"`
	Timestamp     string     `json:"timestamp"`
	Documentation docSummary `json:"documentation"`
}

type docSummary struct {
	Overview         string    `json:"overview"`
	InstructionCount int       `json:"instructionCount"`
	IDLHash          string    `json:"idlHash"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// Notify POSTs the doc.completed payload for doc to url. A nil error means
// the server accepted it with a 2xx status.
func Notify(ctx context.Context, url string, doc model.Documentation) error {
	body := payload{
		Event:     "doc.completed",
		ProgramID: doc.ProgramID,
		Name:      doc.Name,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Documentation: docSummary{
			Overview:         truncate(doc.Overview, overviewExcerptChars),
			InstructionCount: countInstructionSections(doc.Instructions),
			IDLHash:          doc.IDLHash,
			GeneratedAt:      doc.GeneratedAt,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// countInstructionSections counts "###" markers in the instructions
// section, falling back to 1 when none are present (a single-instruction
// program whose LLM output skipped headings still reports non-zero).
func countInstructionSections(instructions string) int {
	count := strings.Count(instructions, "###")
	if count == 0 {
		return 1
	}
	return count
}
