package session

// HostOptions exposes the re-exec tool host options to session_test.
var HostOptions = hostOptions
