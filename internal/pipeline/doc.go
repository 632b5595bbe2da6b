// Package pipeline implements the message ingestion and fan-out path:
// resolve channel, authorize the write through the policy gate, persist
// atomically, broadcast to the room, record audience counts, and trigger
// webhook dispatch. The message is either fully recorded or not recorded
// at all, and fan-out strictly follows the insert's commit.
package pipeline
