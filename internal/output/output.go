package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/idanyas/speedmeter/internal/data"
	"github.com/idanyas/speedmeter/internal/meter"
)

var labels = map[data.Measurement]string{
	data.Download: "Download:",
	data.Upload:   "Upload:",
	data.Ping:     "Ping:",
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// FormatValue renders one display slot; empty slots show "--".
func FormatValue(m data.Measurement, v *float64) string {
	if v == nil {
		return "--"
	}
	if m == data.Ping {
		return fmt.Sprintf("%.2f ms", *v)
	}
	return fmt.Sprintf("%.2f Mbps", *v)
}

// Printer renders session updates as they arrive.
type Printer struct {
	out        io.Writer
	jsonOutput bool
	spinner    bool

	mu sync.Mutex
}

func NewPrinter(out io.Writer, jsonOutput bool) *Printer {
	return &Printer{
		out:        out,
		jsonOutput: jsonOutput,
		spinner:    !jsonOutput && IsTerminal(out),
	}
}

func (p *Printer) PrintHeader(version string) {
	if p.jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(p.out, "\n    speedmeter v%s\n\n", version)
}

// PrintEndpoints shows where each measurement goes.
func (p *Printer) PrintEndpoints(e meter.Endpoints, pingMode string) {
	if p.jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(p.out, "%s Download: %s\n", cyan("✓"), e.DownloadURL)
	fmt.Fprintf(p.out, "%s Upload:   %s\n", cyan("✓"), e.UploadURL)
	fmt.Fprintf(p.out, "%s Ping:     %s (%s)\n\n", cyan("✓"), e.PingURL, pingMode)
}

// Observe prints one line per finished measurement. It is meant to be
// registered with meter.WithObserver.
func (p *Printer) Observe(s data.Snapshot) {
	if p.jsonOutput || s.Step == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	v := s.Results.Get(s.Step)
	if v == nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(p.out, "\r%s %s failed    \n", red("✗"), labels[s.Step])
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(p.out, "\r%s %s %s    \n", green("✓"), labels[s.Step], FormatValue(s.Step, v))
}

// PrintSummary prints the error slot, if any.
func (p *Printer) PrintSummary(s data.Snapshot) {
	if p.jsonOutput {
		OutputJSON(p.out, s)
		return
	}
	if s.Error != nil {
		red := color.New(color.FgRed)
		red.Fprintf(p.out, "\n%s\n", *s.Error)
	}
}

// TransferHook shows a live spinner while a body is transferred. It is
// meant to be registered with meter.WithTransferHook.
func (p *Printer) TransferHook(step data.Measurement, counter *atomic.Int64) func() {
	if !p.spinner {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		p.progressReporter(labels[step], done, counter, time.Now())
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (p *Printer) progressReporter(name string, done <-chan struct{}, counter *atomic.Int64, start time.Time) {
	cyan := color.New(color.FgCyan).SprintFunc()
	spinner := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			p.mu.Lock()
			fmt.Fprint(p.out, "\r\033[K")
			p.mu.Unlock()
			return
		case <-ticker.C:
			speed := meter.ThroughputMbps(counter.Load(), time.Since(start))

			p.mu.Lock()
			fmt.Fprintf(p.out, "\r\033[K%s %s %.2f Mbps",
				cyan(spinner[i%len(spinner)]),
				name,
				speed,
			)
			p.mu.Unlock()
			i++
		}
	}
}

func OutputJSON(w io.Writer, s data.Snapshot) {
	jsonData, _ := json.MarshalIndent(s, "", "  ")
	fmt.Fprintln(w, string(jsonData))
}
