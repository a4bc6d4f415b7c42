// Package registry holds the gateway's capability table: every tool,
// resource and prompt discovered from downstream providers, keyed by the
// name clients see.
//
// The table is replaced wholesale by Rebuild at the end of each discovery
// cycle. Readers always observe either the previous or the new snapshot,
// never a mix, so a name never resolves to a provider from an older cycle.
// Find offers a secondary scan by (original name, provider identifier) for
// names that are not indexed directly.
//
// Each snapshot carries an in-memory bleve index used by Search:
//
//	reg := registry.New(registry.Options{})
//	_, err := reg.Rebuild(map[string]string{"github": "prov-1"}, []registry.Entry{{
//	    Kind:         registry.KindTool,
//	    Name:         "github__create_issue",
//	    OriginalName: "create_issue",
//	    ProviderID:   "prov-1",
//	    Identifier:   "github",
//	    Tool:         &mcp.Tool{Name: "create_issue", Description: "Open an issue"},
//	}})
//	results, _ := reg.Search("issue", 5)
package registry
