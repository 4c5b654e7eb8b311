package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jzx17/pagepipeline/pkg/pipeline"
	"github.com/jzx17/pagepipeline/pkg/types"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		docs        int
		pages       int
		concurrency int
		failPages   string
		flakyPages  string
		retries     int
		delay       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run simulated documents through the pipeline and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if docs <= 0 {
				return fmt.Errorf("--docs must be positive, got %d", docs)
			}
			if pages < 0 {
				return fmt.Errorf("--pages must not be negative, got %d", pages)
			}

			fail, err := parsePageList(failPages)
			if err != nil {
				return fmt.Errorf("--fail-pages: %w", err)
			}
			flaky, err := parsePageList(flakyPages)
			if err != nil {
				return fmt.Errorf("--flaky-pages: %w", err)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.newLogger(cmd)
			if err != nil {
				return err
			}

			sim := simulation{delay: delay, failPages: fail, flakyPages: flaky, retries: retries}
			p, err := pipeline.NewStandard(sim.models(logger), cfg, pipeline.WithLogger[page](logger))
			if err != nil {
				return err
			}

			batch := make([]pipeline.Document[page], docs)
			for i := range batch {
				name := fmt.Sprintf("doc-%d", i+1)
				payloads := make([]page, pages)
				for j := range payloads {
					payloads[j] = page{Doc: name, No: j}
				}
				batch[i] = pipeline.Document[page]{Shared: name, Payloads: payloads}
			}

			results := p.ExecuteMany(cmd.Context(), batch, concurrency)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderRuns(results))
			fmt.Fprintln(out, renderStages(results))

			for _, r := range results {
				if r.Status == types.StatusFailure {
					return fmt.Errorf("%d of %d documents failed completely", countStatus(results, types.StatusFailure), len(results))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&docs, "docs", 1, "Number of documents to convert")
	cmd.Flags().IntVar(&pages, "pages", 10, "Pages per document")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "Documents processed at the same time")
	cmd.Flags().StringVar(&failPages, "fail-pages", "", "Comma separated page numbers the layout model rejects")
	cmd.Flags().StringVar(&flakyPages, "flaky-pages", "", "Comma separated page numbers the ocr model fails once")
	cmd.Flags().IntVar(&retries, "retries", 3, "Attempts per ocr batch")
	cmd.Flags().DurationVar(&delay, "model-delay", 0, "Simulated processing time per batch")
	return cmd
}

func parsePageList(value string) (map[int]bool, error) {
	pages := make(map[int]bool)
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page number %q", field)
		}
		pages[n] = true
	}
	return pages, nil
}

func renderRuns(results []*pipeline.ProcessingResult[page]) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		cause := ""
		if r.Err != nil {
			cause = r.Err.Error()
		} else if len(r.Failed) > 0 {
			cause = r.Failed[0].Err.Error()
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.Run.ID, 10),
			fmt.Sprint(r.Run.Shared),
			string(r.Status),
			strconv.Itoa(r.SuccessCount()),
			strconv.Itoa(r.FailureCount()),
			r.Duration.Round(time.Millisecond).String(),
			cause,
		})
	}
	return renderTable(
		[]string{"Run", "Document", "Status", "Succeeded", "Failed", "Duration", "First Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func renderStages(results []*pipeline.ProcessingResult[page]) string {
	type totals struct {
		batches, processed, failed int64
		busy                       time.Duration
	}
	var order []string
	byStage := make(map[string]*totals)
	for _, r := range results {
		for _, st := range r.Stages {
			t, ok := byStage[st.Name]
			if !ok {
				t = &totals{}
				byStage[st.Name] = t
				order = append(order, st.Name)
			}
			t.batches += st.Batches
			t.processed += st.Processed
			t.failed += st.Failed
			t.busy += st.ProcessingTime
		}
	}

	rows := make([][]string, 0, len(order))
	for _, name := range order {
		t := byStage[name]
		rows = append(rows, []string{
			name,
			strconv.FormatInt(t.batches, 10),
			strconv.FormatInt(t.processed, 10),
			strconv.FormatInt(t.failed, 10),
			t.busy.Round(time.Microsecond).String(),
		})
	}
	return renderTable(
		[]string{"Stage", "Batches", "Processed", "Failed", "Busy"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func countStatus(results []*pipeline.ProcessingResult[page], status types.Status) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}
