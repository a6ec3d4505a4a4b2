/*
Package servicebus implements request/reply over a message transport.

A Broker publishes a request carrying a fresh correlation id and blocks until the
reply with the same id arrives on the request's reply destination, the per-call
timeout elapses, or the caller's context ends. The same Broker serves requests:
handlers bound to a destination answer on the reply destination named by the request.
*/
package servicebus
