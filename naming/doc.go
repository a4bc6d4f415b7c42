// Package naming provides the identity codec used to expose capabilities
// from many providers under one collision-free namespace.
//
// A capability name is either raw ("create_issue") or prefixed with a
// provider identifier and the [Separator]:
//
//	github-server__create_issue
//	3f2a6c1e-8b4d-4c2a-9e1f-0a1b2c3d4e5f__create_issue
//
// The identifier is either a UUID (the provider's stable id) or a slug
// derived from the provider's display name with [Slugify] and made unique
// with [UniqueSlug]. Neither form can contain the separator, so the first
// occurrence of "__" always splits a prefixed name.
//
// [ParsePrefixedName] sanitizes the original name differently depending on
// the identifier kind: UUID-qualified names go through a lenient filter that
// only strips markup and the characters < > ' " &, while slug-qualified names
// keep only letters, digits, space, '.', '-' and '_'.
package naming
