package models

// Event names pushed to the moderator feed.
const (
	EventQueueItemOpened   = "queue_item_opened"
	EventQueueItemUpdated  = "queue_item_updated"
	EventQueueItemResolved = "queue_item_resolved"
	EventPostAutoHidden    = "post_auto_hidden"
	EventPostRemoved       = "post_removed"
)
