package models

type PageKind string

const (
	PageListing   PageKind = "listing"
	PageDirectory PageKind = "directory"
	PageUnknown   PageKind = "unknown"
)

// DirectoryNode is a page visited during discovery. It lives only for the
// duration of one traversal.
type DirectoryNode struct {
	URL                 string
	Depth               int
	Kind                PageKind
	IsLocationDirectory bool
	ChildURLs           []string
}
