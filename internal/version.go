package internal

// Version is reported by /health and shown in the client header.
const Version = "0.3.0"
