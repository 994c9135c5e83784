package config

const (
	// TopicIngestLocation is the NSQ topic carrying one Location per message for distributed ingestion.
	TopicIngestLocation = "ingest.location"

	// TopicIngestResult is the NSQ topic for per-location ingestion outcomes.
	TopicIngestResult = "ingest.result"

	// ChannelIngestWorker is the consumer channel shared by ingestion workers.
	ChannelIngestWorker = "worker"
)
