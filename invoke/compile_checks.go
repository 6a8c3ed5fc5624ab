package invoke

import (
	"net/http"

	"github.com/goliatone/go-connectors/core"
)

var (
	_ TokenSource = (*core.Broker)(nil)
	_ HTTPDoer    = (*http.Client)(nil)
)
