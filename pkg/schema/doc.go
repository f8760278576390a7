// Package schema wraps the declarative object schemas shipped by catalog
// items. A Schema is parsed with kin-openapi and is otherwise treated as
// opaque: the engine only asks for its property names, its required set and
// the two extension attributes that drive secondary-schema resolution,
// `x-schema-trigger-field` and `x-schema-map`.
package schema
