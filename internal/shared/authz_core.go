package shared

// Built-in permission slugs guarding guardpost's own management API. They are
// ordinary catalog permissions; the seed command provisions them.
const (
	PermGrantsView   = "guardpost.grants.view"
	PermGrantsManage = "guardpost.grants.manage"

	PermCatalogView   = "guardpost.catalog.view"
	PermCatalogManage = "guardpost.catalog.manage"

	PermAuditView = "guardpost.audit.view"

	PermCacheFlush = "guardpost.cache.flush"
)
