package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/models"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		stream    bool
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and print the grounded answer",
		Long: `Ask a question against the indexed content. The question is all arguments joined by
spaces, so quoting is optional. With --server the running API answers instead of an
in-process pipeline.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &models.QueryRequest{Query: buildQuestion(args), Stream: stream}
			if err := req.Validate(); err != nil {
				return err
			}
			if serverURL != "" {
				return askViaHTTP(cmd.Context(), out(cmd), serverURL, req)
			}
			return a.askLocal(cmd.Context(), out(cmd), req)
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().StringVar(&serverURL, "server", "", "ask a running server at this URL instead of in-process")
	return cmd
}

// buildQuestion joins positional args so multi-word questions work with or without quotes.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func (a *app) askLocal(ctx context.Context, w io.Writer, req *models.QueryRequest) error {
	c, err := initializeComponents(a.cfg, a.logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.attachAssistant(a.cfg, a.logger, false); err != nil {
		return err
	}

	if !req.Stream {
		answer, err := c.Orchestrator.Answer(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, answer.Answer)
		WriteSources(w, answer.Sources)
		return nil
	}
	return c.Orchestrator.Stream(ctx, req, func(ev models.StreamEvent) error {
		return writeEvent(w, ev)
	})
}

// writeEvent prints one stream event. An error event is returned as an error.
func writeEvent(w io.Writer, ev models.StreamEvent) error {
	switch ev.Type {
	case models.EventChunk:
		fmt.Fprint(w, ev.Content)
	case models.EventSources:
		fmt.Fprintln(w)
		WriteSources(w, ev.Sources)
	case models.EventError:
		fmt.Fprintln(w)
		return errors.New(ev.Error)
	}
	return nil
}

func askViaHTTP(ctx context.Context, w io.Writer, serverURL string, q *models.QueryRequest) error {
	body, err := json.Marshal(q)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if !q.Stream {
		var answer models.Answer
		if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Fprintln(w, answer.Answer)
		WriteSources(w, answer.Sources)
		return nil
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := writeEvent(w, ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
