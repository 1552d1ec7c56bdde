package cli

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"fb_downloader/internal/source/facebook"
)

// commentProgress renders per-post comment collection. The bar is created
// on the first report, once the post total is known. Workers report out of
// order, so each report advances the bar by one instead of setting it.
type commentProgress struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

func newCommentProgress(out io.Writer) *commentProgress {
	return &commentProgress{out: out}
}

func (p *commentProgress) Func() facebook.ProgressFunc {
	return func(_, total int) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.bar == nil {
			p.bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionSetDescription("Fetching comments"),
				progressbar.OptionSetWidth(30),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionShowCount(),
				progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(p.out, "\n") }),
			)
		}
		_ = p.bar.Add(1)
	}
}

// Finish closes the bar if one was started.
func (p *commentProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil && !p.bar.IsFinished() {
		_ = p.bar.Exit()
		_, _ = io.WriteString(p.out, "\n")
	}
}
