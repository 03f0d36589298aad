package router

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerABIJSON = `[
	{"type":"event","name":"SubscriptionStarted","anonymous":false,"inputs":[
		{"name":"subscriptionHash","type":"bytes32","indexed":false},
		{"name":"productHash","type":"bytes32","indexed":false},
		{"name":"user","type":"address","indexed":false},
		{"name":"start","type":"uint256","indexed":false},
		{"name":"subscriptionMetadata","type":"bytes","indexed":false}]},
	{"type":"event","name":"PaymentMade","anonymous":false,"inputs":[
		{"name":"subscriptionHash","type":"bytes32","indexed":false},
		{"name":"paymentNumber","type":"uint256","indexed":false}]},
	{"type":"event","name":"SubscriptionTerminated","anonymous":false,"inputs":[
		{"name":"subscriptionHash","type":"bytes32","indexed":false}]},
	{"type":"event","name":"InitiatorChanged","anonymous":false,"inputs":[
		{"name":"merchant","type":"address","indexed":false},
		{"name":"newInitiator","type":"address","indexed":false}]},
	{"type":"function","name":"products","stateMutability":"view","inputs":[
		{"name":"productHash","type":"bytes32"}],"outputs":[
		{"name":"merchant","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"period","type":"uint256"},
		{"name":"freeTrialLength","type":"uint256"},
		{"name":"paymentPeriod","type":"uint256"},
		{"name":"metadata","type":"bytes"}]},
	{"type":"function","name":"merchantSettings","stateMutability":"view","inputs":[
		{"name":"merchant","type":"address"}],"outputs":[
		{"name":"initiator","type":"address"}]},
	{"type":"function","name":"makePayment","stateMutability":"nonpayable","inputs":[
		{"name":"subscriptionHash","type":"bytes32"},
		{"name":"compensation","type":"uint256"}],"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	routerABI abi.ABI
	erc20ABI  abi.ABI

	// Event topic hashes, used for log filtering.
	SubscriptionStartedTopic    common.Hash
	PaymentMadeTopic            common.Hash
	SubscriptionTerminatedTopic common.Hash
	InitiatorChangedTopic       common.Hash
)

func init() {
	var err error
	routerABI, err = abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("invalid router ABI: " + err.Error())
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("invalid erc20 ABI: " + err.Error())
	}

	SubscriptionStartedTopic = routerABI.Events["SubscriptionStarted"].ID
	PaymentMadeTopic = routerABI.Events["PaymentMade"].ID
	SubscriptionTerminatedTopic = routerABI.Events["SubscriptionTerminated"].ID
	InitiatorChangedTopic = routerABI.Events["InitiatorChanged"].ID
}
