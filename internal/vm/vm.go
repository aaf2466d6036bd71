// Package vm drives a single guest through its lifecycle. It builds the
// boot and device configuration, hands it to the hypervisor driver,
// collects console output and watches it for the guest's DHCP lease.
package vm
