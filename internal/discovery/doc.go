// Package discovery maintains a live registry of services advertised over
// multicast DNS service discovery.
//
// A Registry consumes three streams from a Source: domain/service-type
// announcements, resolved hosts for each announced service type, and
// unsolicited announcements (diagnostic only). Every resolved host is
// translated into zero or more DeviceRecords keyed by
//
//	ip + "@@" + serviceTypeKey + "@@" + port
//
// and consumers are told about changes through four events:
//
//   - StateChanged(running): the discovery session turned on or off
//   - Published(key): a record was inserted, replaced or flagged expired
//   - Unpublished(key): a record was removed
//   - Error(message): a session-relevant error or announcement log line
//
// # Expiry
//
// Records carry the TTL announced by the device. A background monitor,
// started by New and running until the context passed to New is cancelled,
// flags records whose TTL has elapsed and publishes them again. Expired
// records stay visible until a re-announcement replaces or removes them.
// The monitor sleeps exactly until the earliest pending deadline, bounded by
// a default wake interval, and is nudged awake whenever a record is inserted.
//
// # Usage Example
//
//	reg := discovery.New(ctx, mdns.NewSource())
//	reg.OnPublished(func(key string) {
//	    if dev, ok := reg.Lookup(key); ok {
//	        fmt.Println(dev.DisplayName, dev.ServiceType)
//	    }
//	})
//	if err := reg.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Stop()
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Handlers run
// synchronously on the goroutine that detected the change (an ingest
// goroutine or the expiry monitor) and never while the record store is
// locked. Handlers must not block for long and must not call Start, Stop,
// Restart or SetEnabled synchronously; use Forward to hand events to a
// pubsub.Broker when a consumer is slow or needs to drive the lifecycle.
package discovery
