package config

const (
	// TopicVectorize carries records whose documents must be (re)ingested and vectorized.
	TopicVectorize = "rag.vectorize"

	// ChannelVectorize is the consumer channel shared by every backend replica.
	ChannelVectorize = "backend"

	// HandlerVectorize tags failed_jobs rows produced by the vectorize consumer.
	HandlerVectorize = "rag.vectorize"
)
