// Package protocol implements the host/worker wire protocol: one JSON
// message per line over a byte stream.
//
// Messages are externally tagged. A variant carrying data is encoded as an
// object with a single key naming the variant, a variant without data as a
// bare string:
//
//	{"RequestTask":{"worker_id":"4b1d..."}}
//	{"AssignTask":{"task":{"id":"...","graph_id":"g1","run_number":0,"config":"..."}}}
//	"NoTaskAvailable"
//	"Ack"
package protocol
