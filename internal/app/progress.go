package app

import (
	"io"
	"path"
	"sync"

	au "github.com/logrusorgru/aurora"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"geoipd/internal/geolite"
)

// progressObserver draws one bar for the download, one per archive member
// and one per loaded table.
type progressObserver struct {
	progress *mpb.Progress

	mu       sync.Mutex
	download *mpb.Bar
	members  map[string]*mpb.Bar
	tables   map[string]*mpb.Bar
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
		members:  make(map[string]*mpb.Bar),
		tables:   make(map[string]*mpb.Bar),
	}
}

func barStyle() mpb.BarStyleComposer {
	return mpb.BarStyle().Lbound("╢").
		Filler(au.Index(99, "█").String()).Tip("").
		Padding(au.Index(104, "░").String()).Rbound("╟")
}

func (p *progressObserver) addBar(name string, total int64, counters decor.Decorator) *mpb.Bar {
	return p.progress.New(total, barStyle(),
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(counters, au.Green("✓ done").String()),
		),
	)
}

func (p *progressObserver) Downloaded(read, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.download == nil {
		p.download = p.addBar("download", max(total, 0), decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncWidth))
	}
	if total <= 0 {
		p.download.SetTotal(read+1, false)
	}
	p.download.SetCurrent(read)
	if total > 0 && read >= total {
		p.download.SetTotal(-1, true)
	}
}

func (p *progressObserver) MemberStarted(member string, _ geolite.Kind, size int64) {
	bar := p.addBar(path.Base(member), size, decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncWidth))

	p.mu.Lock()
	p.members[member] = bar
	p.mu.Unlock()
}

func (p *progressObserver) RowsRead(member string, _ int, bytes int64) {
	p.mu.Lock()
	bar := p.members[member]
	p.mu.Unlock()

	if bar != nil {
		bar.SetCurrent(bytes)
	}
}

func (p *progressObserver) MemberDone(member string, _ int) {
	p.mu.Lock()
	bar := p.members[member]
	p.mu.Unlock()

	if bar != nil {
		bar.SetTotal(-1, true)
	}
}

func (p *progressObserver) BatchLoaded(table string, loaded, total int) {
	p.mu.Lock()
	bar, ok := p.tables[table]
	if !ok {
		bar = p.addBar(table, int64(total), decor.CountersNoUnit("%d / %d rows", decor.WCSyncWidth))
		p.tables[table] = bar
	}
	p.mu.Unlock()

	bar.SetCurrent(int64(loaded))
	if loaded >= total {
		bar.SetTotal(-1, true)
	}
}

// Finish aborts bars that never completed and waits for the last render.
func (p *progressObserver) Finish() {
	p.mu.Lock()
	bars := make([]*mpb.Bar, 0, len(p.members)+len(p.tables)+1)
	if p.download != nil {
		bars = append(bars, p.download)
	}
	for _, bar := range p.members {
		bars = append(bars, bar)
	}
	for _, bar := range p.tables {
		bars = append(bars, bar)
	}
	p.mu.Unlock()

	for _, bar := range bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	p.progress.Wait()
}
