// Package chat implements the presence and broadcast coordination layer of
// chatnet.
//
// A Router owns the per-connection state machine (Pending, Bound, Closed),
// the Registry of bound connections and the fan-out of roster, message and
// typing events. Every event is applied under a single lock so that state
// mutations and the enqueueing of the frames they produce are observed by all
// recipients in the same order. Delivery itself is delegated to a Transport.
package chat
