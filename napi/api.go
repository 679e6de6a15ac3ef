package main

// apiEndpoints is the complete route table of the daemon.
var apiEndpoints = []APIEndpoint{
	pingCmd,

	nicTagsCmd,
	nicTagCmd,

	networksCmd,
	networkCmd,
	networkIPsCmd,
	networkIPCmd,
	networkNICsCmd,

	nicsCmd,
	nicCmd,

	networkPoolsCmd,
	networkPoolCmd,
	networkPoolNICsCmd,

	fabricVLANsCmd,
	fabricVLANCmd,
	fabricNetworksCmd,
	fabricNetworkCmd,

	aggregationsCmd,
	aggregationCmd,

	searchIPsCmd,
	eventsCmd,
	manageGCCmd,
}
