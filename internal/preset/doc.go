// Package preset keeps the operator's quick-event labels.
//
// A fixed number of slots, each holding a label that can be sent as a
// recording event with one tap. The list is stored as a JSON array in the
// kv_store table and, when MQTT is enabled, shared with other monitor
// instances on the same site through a retained topic.
package preset
