// Package crawler defines the domain types, component contracts and error
// taxonomy shared by the research pipeline: policy, fetching, caching,
// extraction, chunking, embedding, indexing and retrieval.
package crawler
