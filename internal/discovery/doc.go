// Package discovery ties the device registry to connection supervision.
//
// Devices enter the registry from three places: a NetworkDevice
// announcement on an existing status socket, a Phone snapshot, or the
// one-shot Bootstrap against a host given in configuration. Whichever way
// a device arrives, Discovery ensures exactly one supervisor is connected
// to it. The synthetic demo device is never supervised.
package discovery
