// Package persist saves and loads task collections as JSON files.
//
// Two schemas are supported. The native format is a versioned document
// holding full task records. The legacy format is the flat array written by
// the earlier interactive tool, reproduced field for field so existing
// files keep loading:
//
//	[{"id":"…","titulo":"…","prioridade":3,"data_vencimento":"2026-05-01","status":"Pendente"}]
//
// Loaded documents are checked against a JSON Schema before decoding. A
// missing or unparsable file is an IO error; a schema violation is
// CORRUPTION.
package persist
