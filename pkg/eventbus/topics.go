package eventbus

// TopicViewValidated carries validated view events from the ingestion
// pipeline to the async durable writer.
const TopicViewValidated = "views.validated"

// TopicDLQ receives messages that exhausted the writer's retries.
const TopicDLQ = "player-gateway-dlq"
