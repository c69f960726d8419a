package chain

var SessionManagerABI = sessionManagerABI
