// Package querykit builds namespaced toolkits over a keyed query cache. A
// toolkit binds a resource function (or a mutation) to an identity key and
// exposes observers, imperative fetches and direct cache access, all scoped
// to keys under that identity.
//
// Components:
//   - Client: the cache that owns data, fetch state and subscriptions
//     (querycache.Client is the bundled implementation).
//   - QueryCreator / NewQuery: query toolkits, either *SingleQuery or
//     *InfiniteQuery depending on QueryType.
//   - MutationCreator / NewMutation: mutation toolkits.
//   - Persister: optional generation-checked store behind resolvers
//     (persist.Store).
//
// Keys:
//
//	identity ++ opts.Key ++ args   - query entries (args only with ArgsInKey)
//	identity ++ opts.Key           - mutations
//
// Capability table:
//
//	op, err := users.Capability("removeQueries") // resolved once, no panics
//	_, err  = op(ctx, querykit.Key{7})           // key rewritten to [user 7]
//
// Names of the other query mode fail with ErrModeInactive and names the
// client does not offer fail with *UnknownCapabilityError.
package querykit
