package wasmld

// Version is reported in the producers section of linked modules and by the CLI.
const Version = "0.4.0"

// Name is the tool name recorded as the "processed-by" producer.
const Name = "wasmld"
