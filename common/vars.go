package common

// Version is set at build time with -ldflags "-X .../common.Version=..."
var Version = "dev"

// PackageName is the module path, used as the default log service tag.
const PackageName = "agent-launch-provisioner"
