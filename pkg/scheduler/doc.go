// Package scheduler multiplexes one-shot interleaved advertisement jobs
// from many owners onto the single radio.
//
// Jobs wait in a FIFO keyed by job id. Whenever the radio is free, the
// gate is open and the device is powered, the head job claims the radio
// for its duration and is then completed with an AdvertisementComplete
// event sent only to its owner. Suspend closes the gate for new
// activations without touching the running job.
package scheduler
