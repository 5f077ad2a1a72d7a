// Package runtime hosts the agent runtime around the communication core:
// configuration loading, the controller lifecycle contract, and the
// container that resolves controllers and drives them through their
// lifecycle callbacks.
//
// The container calls, in this order, on each controller:
//
//	OnInit → OnContainerResolved → OnCommunicationManagerStarting …
//	… OnCommunicationManagerStopping → OnDispose
//
// Controllers interact with the core only through the communication
// manager's publish/observe methods and these callbacks.
package runtime
