// Package sim provides software peripherals that implement every driver
// contract of this module. They stand in for hardware in tests, in the
// halctl self test and on boards without the real device.
//
// Each device advances in units (a byte, an item, a frame, a flash page) and
// takes one Clock tick per unit. A FreeClock runs as fast as the scheduler
// allows or at a fixed period; a ManualClock lets tests step devices
// deterministically. Completion callbacks run on the device goroutine.
//
// Execution faults (arbitration loss, framing errors, mode faults and so on)
// are injected through the Inject* methods of each device.
package sim
