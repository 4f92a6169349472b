// Package qft implements the sending side of a point-to-point byte stream
// transfer.
//
// A transfer opens one TCP connection to a resolved Target, optionally tells
// the peer how large the payload is so it can preallocate disk space, writes
// an optional inline message, and then streams the payload from a content
// source through a compression codec until the source is exhausted. Every
// invocation is a one-shot, sequential transfer from one sender to one
// receiver.
//
// # Getting Started
//
// Resolve a target, describe the transfer, and send:
//
//	target, err := qft.ParseTarget("192.168.1.20", 9000)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := qft.Send(ctx, target, qft.Options{
//	    Source:      source.File("/srv/backup.tar"),
//	    Compression: codec.LZ4,
//	    Preallocate: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("sent", result.BytesTransferred, "bytes")
//
// # Wire Format
//
// When Options.Preallocate is set, the first eight bytes on the connection are
// the source file length as a big-endian unsigned integer. They are written
// directly on the connection, ahead of any buffering. The inline message, if
// any, follows. Everything after that is payload, encoded by the selected
// codec. Nothing on the wire says whether a size header or a codec is present;
// sender and receiver agree on both out of band.
//
// # Core Types
//
//   - [Client]: sends transfers with a configured dialer, observer and buffer size
//   - [Target]: the resolved IP address and port of the receiver
//   - [Options]: content source, compression mode, preallocation and message
//   - [Result]: the number of raw source bytes transferred
//   - [Error]: a failed operation with its kind ([ErrConnection], [ErrSource],
//     [ErrCodec], [ErrIO], [ErrConfig]) and cause
//
// # Observability
//
// The client does not log. It reports lifecycle events to the
// [observer.Observer] in its [Config]. Use observer.NewLogrus to forward them
// to logrus:
//
//	client := qft.NewClient(qft.Config{
//	    Observer: observer.NewLogrus(logrus.WithField("transfer_id", id)),
//	})
//
// # Related Packages
//
//   - source: stdin, buffered file and memory-mapped file backends
//   - codec: LZ4, gzip and zstd streaming encoders
//   - stream: the bounded-buffer copy loop
//   - remote: free-port negotiation and SSH sessions
//   - discovery: mDNS hostname resolution
//   - config: configuration loading and logging setup
package qft
