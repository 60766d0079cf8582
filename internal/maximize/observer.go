package maximize

// Observer receives progress events of a pipeline run.
// Calls come from the participant's own goroutine.
type Observer interface {
	OnStart(rank int, s Start)
	OnAttempt(rank int, a SearchAttempt)
	OnSearchDone(rank int, r SearchResult)
	OnPublished(p *Product)
}

// NopObserver ignores every event. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) OnStart(int, Start)             {}
func (NopObserver) OnAttempt(int, SearchAttempt)   {}
func (NopObserver) OnSearchDone(int, SearchResult) {}
func (NopObserver) OnPublished(*Product)           {}

// Observers fans every event out to each observer in order
type Observers []Observer

func (obs Observers) OnStart(rank int, s Start) {
	for _, o := range obs {
		o.OnStart(rank, s)
	}
}

func (obs Observers) OnAttempt(rank int, a SearchAttempt) {
	for _, o := range obs {
		o.OnAttempt(rank, a)
	}
}

func (obs Observers) OnSearchDone(rank int, r SearchResult) {
	for _, o := range obs {
		o.OnSearchDone(rank, r)
	}
}

func (obs Observers) OnPublished(p *Product) {
	for _, o := range obs {
		o.OnPublished(p)
	}
}
