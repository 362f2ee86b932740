package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jmorganca/speedtest/api"
	"github.com/jmorganca/speedtest/format"
	"github.com/jmorganca/speedtest/progress"
)

// renderer turns the events of one test into terminal output: a live
// progress bar and a summary table, or one JSON object per event.
type renderer struct {
	out  io.Writer
	kind api.Kind
	url  string
	json bool

	p       *progress.Progress
	spinner *progress.Spinner
	bar     *progress.Bar
	limit   time.Duration

	result *api.Result
	err    error
}

func newRenderer(out io.Writer, kind api.Kind, url string, json bool) *renderer {
	return &renderer{out: out, kind: kind, url: url, json: json}
}

func (r *renderer) startProgress(w io.Writer) {
	r.p = progress.NewProgress(w)
}

func (r *renderer) handle(ev api.Event) error {
	switch ev.Type {
	case api.EventStarted:
		r.url = ev.Started.URL
		r.limit = time.Duration(ev.Started.DurationCapMs) * time.Millisecond
		if r.p != nil {
			r.spinner = progress.NewSpinner(fmt.Sprintf("connecting to %s", hostLabel(r.url)))
			r.p.Add(r.spinner)
		}
	case api.EventProgress:
		if r.p != nil {
			if r.bar == nil {
				if r.spinner != nil {
					r.spinner.Stop()
				}
				r.bar = progress.NewBar(string(r.kind), r.limit)
				r.p.Add(r.bar)
			}

			pe := ev.Progress
			r.bar.Set(time.Duration(pe.ElapsedMs)*time.Millisecond, int64(pe.BytesTransferred), pe.InstantaneousMbps, pe.WindowMbps)
		}
	case api.EventFinished:
		r.result = ev.Finished
		if r.bar != nil {
			res := ev.Finished
			r.bar.Finish(time.Duration(res.ElapsedMs)*time.Millisecond, int64(res.TotalBytes), res.AvgMbps)
		}
	case api.EventError:
		r.err = errors.New(ev.Error.Message)
	}

	if r.json {
		bts, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(r.out, string(bts))
		return err
	}

	return nil
}

// close ends the output. err is the error that ended the event stream, if
// any; an Error event takes precedence.
func (r *renderer) close(err error) error {
	if r.err != nil {
		err = r.err
	}

	if r.p != nil {
		if err != nil || r.result == nil {
			r.p.StopAndClear()
		} else {
			r.p.Stop()
		}
	}

	if err != nil {
		return fmt.Errorf("%s test failed: %w", r.kind, err)
	}

	if r.result == nil {
		return fmt.Errorf("%s test ended without a result", r.kind)
	}

	if !r.json {
		printResult(r.out, r.kind, r.url, r.result)
	}

	return nil
}

func printResult(out io.Writer, kind api.Kind, url string, result *api.Result) {
	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding(" ")
	table.SetAutoWrapText(false)

	data := [][]string{
		{"Test:", string(kind)},
		{"Server:", hostLabel(url)},
		{"Transferred:", format.HumanBytes(int64(result.TotalBytes))},
		{"Elapsed:", format.HumanMillis(result.ElapsedMs)},
		{"Speed:", format.HumanRate(result.AvgMbps)},
	}

	if result.Canceled {
		data = append(data, []string{"Status:", "canceled"})
	}

	table.AppendBulk(data)
	table.Render()
}
