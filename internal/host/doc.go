// Package host implements the coordinating side of kambo-hive: the task
// scheduler, the result store and the TCP server that workers talk to.
//
// The scheduler and the result store each guard their own state with a
// mutex. The server never holds either lock across socket I/O, and a
// ReportResult completes the task in the scheduler before it records the
// result, releasing the first lock before taking the second.
package host
