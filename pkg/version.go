package pkg

const Version = "0.1.0"
