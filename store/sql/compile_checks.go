package sqlstore

import (
	"github.com/goliatone/go-connectors/core"
)

var (
	_ core.CredentialStore = (*CredentialStore)(nil)
	_ core.StoreProvider   = (*RepositoryFactory)(nil)
)
