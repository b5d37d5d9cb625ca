package geolite

// Observer receives progress notifications from the pipeline. Methods may be
// called from several goroutines at once while members are parsed.
type Observer interface {
	Downloaded(read, total int64)
	MemberStarted(member string, kind Kind, size int64)
	RowsRead(member string, rows int, bytes int64)
	MemberDone(member string, rows int)
	BatchLoaded(table string, loaded, total int)
}

type NopObserver struct{}

func (NopObserver) Downloaded(int64, int64) {}
func (NopObserver) MemberStarted(string, Kind, int64) {}
func (NopObserver) RowsRead(string, int, int64) {}
func (NopObserver) MemberDone(string, int) {}
func (NopObserver) BatchLoaded(string, int, int) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (obs Observers) Downloaded(read, total int64) {
	for _, o := range obs {
		o.Downloaded(read, total)
	}
}

func (obs Observers) MemberStarted(member string, kind Kind, size int64) {
	for _, o := range obs {
		o.MemberStarted(member, kind, size)
	}
}

func (obs Observers) RowsRead(member string, rows int, bytes int64) {
	for _, o := range obs {
		o.RowsRead(member, rows, bytes)
	}
}

func (obs Observers) MemberDone(member string, rows int) {
	for _, o := range obs {
		o.MemberDone(member, rows)
	}
}

func (obs Observers) BatchLoaded(table string, loaded, total int) {
	for _, o := range obs {
		o.BatchLoaded(table, loaded, total)
	}
}
