// Package core contains the OCPI party registry, the credentials handshake
// and the outbound call machinery. Transport, storage and inbound adapters
// depend on this package; core must not depend on them.
package core
