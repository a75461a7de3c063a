package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.EmbedRowsActivity)
	w.RegisterActivity(a.GroupRowsActivity)
	w.RegisterActivity(a.LogEmbedCallActivity)
	w.RegisterActivity(a.CleanupRunActivity)
}
