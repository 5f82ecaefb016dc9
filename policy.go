package imgpreload

import "slices"

// Method is the transport used to preload images.
//
// The controller runs regardless of method; the value decides whether
// callers should also emit link preload hints and is logged for diagnostics.
type Method string

const (
	// MethodJavaScript preloads with script-driven fetches only.
	MethodJavaScript Method = "javascript"

	// MethodLinkPreload relies on <link rel="preload"> hints only.
	MethodLinkPreload Method = "link_preload"

	// MethodBoth uses script-driven fetches and link preload hints.
	MethodBoth Method = "both"
)

// String returns the string representation of the method.
func (m Method) String() string {
	return string(m)
}

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodJavaScript, MethodLinkPreload, MethodBoth:
		return true
	}
	return false
}

// UsesScript reports whether the method includes script-driven fetches.
func (m Method) UsesScript() bool {
	return m == MethodJavaScript || m == MethodBoth
}

// UsesLinkHints reports whether the method includes link preload hints.
func (m Method) UsesLinkHints() bool {
	return m == MethodLinkPreload || m == MethodBoth
}

// PageKind describes what kind of page is being rendered.
type PageKind string

const (
	PageFront   PageKind = "front_page"
	PagePosts   PageKind = "posts_page"
	PageSingle  PageKind = "single"
	PagePage    PageKind = "page"
	PageArchive PageKind = "archive"
	PageOther   PageKind = "other"
)

// Page identifies the page a preload decision is made for.
type Page struct {
	// ID is an opaque page identifier (numeric id, slug or path).
	ID string

	// Kind is the page's kind.
	Kind PageKind
}

// LoadCondition selects the pages preloading runs on.
type LoadCondition string

const (
	LoadOnAll     LoadCondition = "all"
	LoadOnFront   LoadCondition = "front_page"
	LoadOnPosts   LoadCondition = "posts_page"
	LoadOnSingle  LoadCondition = "single"
	LoadOnPage    LoadCondition = "page"
	LoadOnArchive LoadCondition = "archive"
)

// Valid reports whether c is one of the known conditions.
func (c LoadCondition) Valid() bool {
	switch c {
	case LoadOnAll, LoadOnFront, LoadOnPosts, LoadOnSingle, LoadOnPage, LoadOnArchive:
		return true
	}
	return false
}

// PagePolicy decides which pages preloading runs on.
type PagePolicy struct {
	Enabled bool

	// LoadOn restricts preloading to one kind of page. Empty means all.
	LoadOn LoadCondition

	// ExcludePages lists page IDs skipped when LoadOn is all.
	ExcludePages []string
}

// Allows reports whether preloading should run on page.
//
// Exclusions only apply to the "all" condition; a specific condition
// already names exactly the pages it runs on.
func (p PagePolicy) Allows(page Page) bool {
	if !p.Enabled {
		return false
	}

	switch p.LoadOn {
	case LoadOnFront:
		return page.Kind == PageFront
	case LoadOnPosts:
		return page.Kind == PagePosts
	case LoadOnSingle:
		return page.Kind == PageSingle
	case LoadOnPage:
		return page.Kind == PagePage
	case LoadOnArchive:
		return page.Kind == PageArchive
	default:
		return !slices.Contains(p.ExcludePages, page.ID)
	}
}
